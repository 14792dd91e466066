// Package detection screens call text for security-relevant content.
//
// A Registry is built once from config.SecurityConfig and holds two kinds of
// rules: case-insensitive keywords grouped in categories (sensitive_data,
// dangerous_commands, prompt_manipulation, or any custom name) and named
// RE2 regular expressions. A rule that fails to load is reported as a
// *ConfigError and disabled; loading never fails as a whole.
//
// The Matcher applies every active rule to a text and returns matches in a
// deterministic order. Each rule runs under a time budget and a match cap.
// Classify reduces matches to an alert level:
//
//	dangerous   any dangerous_commands match, or a high-severity match in a
//	            blocking category; the call is blocked
//	suspicious  any other match
//	none        no matches
//
// The Masker redacts matched spans with the rule's strategy (partial, full,
// structural, hash), merging overlapping spans first.
//
// Basic usage:
//
//	engine, errs := detection.New(cfg.Security, logger)
//	for _, err := range errs {
//	    logger.Warn("rule disabled", "error", err)
//	}
//	res := engine.Screen("prompt", prompt)
//	if res.Classification.Block {
//	    // record a blocked event
//	}
package detection
