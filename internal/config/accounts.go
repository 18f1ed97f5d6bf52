package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	// accounts.txt: one "user-password-prefix" per line
	accountLineRegex = regexp.MustCompile(`^(?P<u>[^\-\n]+?)-(?P<p>[^\-\n]+?)-(?P<n>.+)$`)

	// MULTIPLE_NETFLIX_ACCOUNTS or ACCOUNTS env: "[user|password|prefix][user|password|prefix]"
	accountListRegex = regexp.MustCompile(`\[(?P<u>[^|\]]+?)\|(?P<p>[^|\]]+?)\|(?P<n>[^\]]+?)\]`)
)

// ParseAccountsFile reads accounts in the legacy line format.
// Blank lines and lines starting with # are skipped.
func ParseAccountsFile(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	var accounts []Account
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := accountLineRegex.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("accounts file %s:%d: expected user-password-prefix", path, lineNo)
		}
		accounts = append(accounts, Account{
			Username:      strings.TrimSpace(m[1]),
			Password:      strings.TrimSpace(m[2]),
			ProfilePrefix: strings.TrimSpace(m[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return accounts, nil
}

// ParseAccountsList parses the bracketed env format
func ParseAccountsList(s string) []Account {
	var accounts []Account
	for _, m := range accountListRegex.FindAllStringSubmatch(s, -1) {
		accounts = append(accounts, Account{
			Username:      strings.TrimSpace(m[1]),
			Password:      strings.TrimSpace(m[2]),
			ProfilePrefix: strings.TrimSpace(m[3]),
		})
	}
	return accounts
}

// dedupeAccounts keeps the first entry per username
func dedupeAccounts(in []Account) []Account {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, a := range in {
		key := strings.ToLower(a.Username)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
