package scheduler

import "regexp"

// readOnlyBashCommands recognize bash commands that only read files: the
// first word of the whole command string is one of these names.
var readOnlyBashCommands = map[string]bool{
	"cat":  true,
	"grep": true,
	"head": true,
	"tail": true,
	"less": true,
	"ls":   true,
	"find": true,
	"wc":   true,
	"file": true,
}

// mutatingBashPatterns flag a command as a worst-case filesystem writer.
var mutatingBashPatterns = []*regexp.Regexp{
	regexp.MustCompile(`>\s*\S`),     // redirection, including >>
	regexp.MustCompile(`\btee\b`),
	regexp.MustCompile(`\bmv\b`),
	regexp.MustCompile(`\bcp\b`),
	regexp.MustCompile(`\brm\b`),
	regexp.MustCompile(`\bmkdir\b`),
	regexp.MustCompile(`\btouch\b`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bsed\s+-i\b`),
}

var firstWordPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_./-]+)`)

// BashResourceAccesses applies the conservative bash heuristic: recognized
// read-only commands emit a file:<path-unknown>:read access scoped to "*"
// (bash doesn't give us a structured path), mutating patterns emit the
// file:*:write and directory:*:write wildcards, and anything unrecognized
// is assumed worst-case: a single file:*:write.
func BashResourceAccesses(command string) []ResourceAccess {
	if command == "" {
		return []ResourceAccess{{Kind: ResourceFile, Identifier: "*", Mode: ModeWrite}}
	}

	for _, pat := range mutatingBashPatterns {
		if pat.MatchString(command) {
			return []ResourceAccess{
				{Kind: ResourceFile, Identifier: "*", Mode: ModeWrite},
				{Kind: ResourceDirectory, Identifier: "*", Mode: ModeWrite},
			}
		}
	}

	m := firstWordPattern.FindStringSubmatch(command)
	if m != nil && readOnlyBashCommands[m[1]] {
		return []ResourceAccess{{Kind: ResourceFile, Identifier: "*", Mode: ModeRead}}
	}

	// Unrecognized command shape: assume worst case.
	return []ResourceAccess{{Kind: ResourceFile, Identifier: "*", Mode: ModeWrite}}
}

// DefaultExtractor extracts ResourceAccesses for a call: structured
// path/url arguments where the tool's metadata declares them, the bash
// heuristic for tools named "bash", and a worst-case file:*:write otherwise
// when metadata declares side effects but no structured shape is known.
func DefaultExtractor(call Call, meta ToolMetadata) []ResourceAccess {
	if call.ToolName == "bash" {
		cmd, _ := call.Args["command"].(string)
		return BashResourceAccesses(cmd)
	}

	if path, ok := stringArg(call.Args, "path"); ok {
		return []ResourceAccess{accessFor(meta, path)}
	}
	if path, ok := stringArg(call.Args, "file_path"); ok {
		return []ResourceAccess{accessFor(meta, path)}
	}
	if url, ok := stringArg(call.Args, "url"); ok {
		mode := ModeRead
		if writes(meta, ResourceNetwork) {
			mode = ModeWrite
		}
		return []ResourceAccess{{Kind: ResourceNetwork, Identifier: url, Mode: mode}}
	}

	if meta.HasSideEffects {
		return []ResourceAccess{{Kind: ResourceFile, Identifier: "*", Mode: ModeWrite}}
	}
	return nil
}

func accessFor(meta ToolMetadata, identifier string) ResourceAccess {
	mode := ModeRead
	if writes(meta, ResourceFile) {
		mode = ModeWrite
	}
	return ResourceAccess{Kind: ResourceFile, Identifier: identifier, Mode: mode}
}

func writes(meta ToolMetadata, kind ResourceKind) bool {
	for _, k := range meta.WritesResourceTypes {
		if k == kind {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
