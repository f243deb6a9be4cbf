package backend

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// withCredential runs fn with an environment that answers git's credential
// prompts from a throwaway GIT_ASKPASS helper. The helper lives in a private
// temporary directory that is removed when fn returns, whatever the outcome.
// With an empty credential fn runs with prompts disabled.
func withCredential(cred Credential, fn func(env []string) error) (err error) {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	if cred.Empty() {
		return fn(env)
	}
	dir, err := os.MkdirTemp("", "repoops-askpass-")
	if err != nil {
		return fmt.Errorf("create askpass dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Warn("remove askpass helper", slog.String("dir", dir), slog.Any("error", rmErr))
			if err == nil {
				err = fmt.Errorf("remove askpass helper: %w", rmErr)
			}
		}
	}()
	if err := os.Chmod(dir, 0o700); err != nil {
		return fmt.Errorf("chmod askpass dir: %w", err)
	}
	name, script := askpassScript(cred)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		return fmt.Errorf("write askpass helper: %w", err)
	}
	env = append(env, "GIT_ASKPASS="+path)
	return fn(env)
}

// defaultAskpassUser is sent when a token comes without a user name.
const defaultAskpassUser = "x-access-token"

func askpassScript(cred Credential) (name, script string) {
	user := cred.Username
	if user == "" {
		user = defaultAskpassUser
	}
	if runtime.GOOS == "windows" {
		var b strings.Builder
		b.WriteString("@echo off\r\n")
		fmt.Fprintf(&b, "echo %%~1 | findstr /b /i \"Username\" >nul && (echo %s) || (echo %s)\r\n",
			cmdEscape(user), cmdEscape(cred.Token))
		return "askpass.cmd", b.String()
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("case \"$1\" in\n")
	fmt.Fprintf(&b, "Username*) printf '%%s\\n' %s ;;\n", shellQuote(user))
	fmt.Fprintf(&b, "*) printf '%%s\\n' %s ;;\n", shellQuote(cred.Token))
	b.WriteString("esac\n")
	return "askpass.sh", b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func cmdEscape(s string) string {
	r := strings.NewReplacer("^", "^^", "&", "^&", "|", "^|", "<", "^<", ">", "^>", "%", "%%")
	return r.Replace(s)
}
