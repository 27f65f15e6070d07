package search

import "ripgrip/internal/domain"

// BuildArgs translates a query spec into the search tool's argument vector.
// Structured JSON output is always requested; the pattern follows a "--"
// separator so patterns starting with a dash are not taken as flags.
func BuildArgs(spec domain.QuerySpec) []string {
	args := []string{"--json"}

	switch spec.Case {
	case domain.CaseSmart:
		args = append(args, "--smart-case")
	case domain.CaseIgnore:
		args = append(args, "--ignore-case")
	case domain.CaseStrict:
		// Strict matching is the tool's default, no flag
	}

	if !spec.Regex {
		args = append(args, "--fixed-strings")
	}
	if spec.Word {
		args = append(args, "--word-regexp")
	}

	args = append(args, "--", spec.Pattern)

	// Directory arguments are omitted when searching exactly the cwd
	args = append(args, spec.Dirs...)

	return args
}
