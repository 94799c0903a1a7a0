package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func runCommand(testContext *testing.T, stdin string, args ...string) (string, error) {
	testContext.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashPasswordOutputVerifies(testContext *testing.T) {
	output, err := runCommand(testContext, "", "hash-password", "s3cret")
	if err != nil {
		testContext.Fatalf("hash-password failed: %v", err)
	}
	hash := strings.TrimSpace(output)
	if !strings.HasPrefix(hash, "$2") {
		testContext.Fatalf("expected bcrypt hash, got %q", hash)
	}

	viper.Set("auth.admin_password_hash", hash)
	testContext.Cleanup(func() { viper.Set("auth.admin_password_hash", "") })

	output, err = runCommand(testContext, "", "verify-password", "s3cret")
	if err != nil {
		testContext.Fatalf("verify-password failed: %v", err)
	}
	if !strings.Contains(output, "password matches") {
		testContext.Fatalf("unexpected output %q", output)
	}

	if _, err := runCommand(testContext, "", "verify-password", "wrong"); !errors.Is(err, errPasswordMismatch) {
		testContext.Fatalf("expected mismatch, got %v", err)
	}
}

func TestHashPasswordReadsStdin(testContext *testing.T) {
	output, err := runCommand(testContext, "from-stdin\n", "hash-password")
	if err != nil {
		testContext.Fatalf("hash-password failed: %v", err)
	}
	if strings.TrimSpace(output) == "" {
		testContext.Fatalf("expected a hash on stdout")
	}
	if _, err := runCommand(testContext, "", "hash-password"); !errors.Is(err, errEmptyPassword) {
		testContext.Fatalf("expected empty password error, got %v", err)
	}
}

func TestPasswordArgument(testContext *testing.T) {
	testCases := []struct {
		name  string
		stdin string
		args  []string
		want  string
		err   error
	}{
		{name: "argument", args: []string{"pw"}, want: "pw"},
		{name: "stdin", stdin: "pw\r\n", want: "pw"},
		{name: "stdin without newline", stdin: "pw", want: "pw"},
		{name: "empty argument", args: []string{""}, err: errEmptyPassword},
		{name: "empty stdin", err: errEmptyPassword},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(subTest *testing.T) {
			got, err := passwordArgument(strings.NewReader(testCase.stdin), testCase.args)
			if !errors.Is(err, testCase.err) {
				subTest.Fatalf("expected error %v, got %v", testCase.err, err)
			}
			if got != testCase.want {
				subTest.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestDatabaseConfigNormalisesDriver(testContext *testing.T) {
	configViper := viper.New()
	configViper.Set("database.driver", " Postgres ")
	configViper.Set("database.dsn", "postgres://localhost/portfolio")

	cfg := databaseConfig(configViper)
	if cfg.Driver != "postgres" || cfg.DSN != "postgres://localhost/portfolio" {
		testContext.Fatalf("unexpected database config %+v", cfg)
	}
}
