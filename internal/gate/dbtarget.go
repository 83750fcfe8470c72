package gate

import (
	"path/filepath"
	"strings"
)

// databaseEngines are commands whose file argument is a database opened
// for writing, regardless of the rest of the command line
var databaseEngines = map[string]bool{
	"sqlite3": true,
	"sqlite":  true,
	"duckdb":  true,
	"psql":    true,
	"mysql":   true,
}

// mutatingCommands write to their path arguments directly. Used for
// Layer 0 write-target extraction; a bare mention inside an argument
// string is not a write.
var mutatingCommands = map[string]bool{
	"rm":       true,
	"mv":       true,
	"cp":       true,
	"tee":      true,
	"touch":    true,
	"truncate": true,
	"chmod":    true,
	"dd":       true,
}

// checkDatabaseTargets enforces Layer 0.5: a shell command is blocked
// when its actual write target is a managed database file. A filename
// that merely appears in command content passes; only database-engine
// invocations and redirection targets count.
func (e *Engine) checkDatabaseTargets(command string) Decision {
	for _, segment := range splitPipeline(command) {
		tokens := tokenize(segment)
		if len(tokens) == 0 {
			continue
		}

		if databaseEngines[filepath.Base(tokens[0])] {
			for _, arg := range tokens[1:] {
				if e.isManagedDatabase(arg) {
					return block(GateLayer0DB, "%s invokes a database engine against managed file %s", tokens[0], arg)
				}
			}
		}

		for _, target := range redirectTargets(tokens) {
			if e.isManagedDatabase(target) {
				return block(GateLayer0DB, "command redirects output into managed database file %s", target)
			}
		}
	}
	return allow()
}

// isManagedDatabase reports whether a path names a database file under
// management. Any database-suffixed file counts, so renamed or copied
// state files stay covered without blocklist maintenance.
func (e *Engine) isManagedDatabase(path string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, m := range e.managedDBs {
		if clean == filepath.ToSlash(filepath.Clean(m)) || filepath.Base(clean) == filepath.Base(m) {
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// shellWriteTargets extracts every path a command line actually writes
// to: redirection targets plus the path arguments of known mutating
// commands. Quoted strings that merely mention a path contribute
// nothing.
func shellWriteTargets(command string) []string {
	var targets []string
	for _, segment := range splitPipeline(command) {
		tokens := tokenize(segment)
		if len(tokens) == 0 {
			continue
		}
		targets = append(targets, redirectTargets(tokens)...)

		if mutatingCommands[filepath.Base(tokens[0])] {
			for _, arg := range tokens[1:] {
				if strings.HasPrefix(arg, "-") {
					continue
				}
				targets = append(targets, arg)
			}
		}
		// In-place sed edits its file arguments.
		if filepath.Base(tokens[0]) == "sed" && hasFlag(tokens[1:], "-i") {
			for _, arg := range tokens[1:] {
				if !strings.HasPrefix(arg, "-") {
					targets = append(targets, arg)
				}
			}
		}
	}
	return targets
}

// redirectTargets returns the paths following > and >> operators,
// handling both separated (`> file`) and attached (`>file`) forms
func redirectTargets(tokens []string) []string {
	var targets []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == ">" || tok == ">>" || tok == "1>" || tok == "2>" || tok == "&>":
			if i+1 < len(tokens) {
				targets = append(targets, tokens[i+1])
				i++
			}
		case strings.HasPrefix(tok, ">>"):
			targets = append(targets, tok[2:])
		case strings.HasPrefix(tok, ">") && len(tok) > 1:
			targets = append(targets, tok[1:])
		}
	}
	return targets
}

func hasFlag(tokens []string, flag string) bool {
	for _, t := range tokens {
		if t == flag || strings.HasPrefix(t, flag) {
			return true
		}
	}
	return false
}

// splitPipeline breaks a command line into segments on ;, |, && and ||,
// respecting single and double quotes
func splitPipeline(command string) []string {
	var segments []string
	var current strings.Builder
	var quote rune

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			current.WriteRune(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			current.WriteRune(c)
		case c == ';' || c == '|' || c == '&':
			segments = append(segments, current.String())
			current.Reset()
			// Collapse doubled operators.
			if i+1 < len(runes) && (runes[i+1] == '|' || runes[i+1] == '&') {
				i++
			}
		default:
			current.WriteRune(c)
		}
	}
	segments = append(segments, current.String())
	return segments
}

// tokenize splits a segment on whitespace, keeping quoted spans as a
// single token with the quotes stripped
func tokenize(segment string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	for _, c := range segment {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				current.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			current.WriteRune(c)
			inToken = true
		}
	}
	flush()
	return tokens
}
