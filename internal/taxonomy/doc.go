// Package taxonomy defines the normalized error model shared by the whole
// resilience pipeline.
//
// Every failure reported by a collaborating subsystem is converted into a
// Record: a typed error carrying a Kind (failure class), an ordered Severity,
// a user-facing message and suggestion, and open metadata. Normalization is
// heuristic and best-effort: a misclassified error degrades the chosen
// strategy, it never blocks delivery.
//
// Example Usage:
//
//	n := taxonomy.NewNormalizer()
//	rec := n.Normalize(err, map[string]any{"operation": "clipboard.write"})
//	if rec.Severity >= taxonomy.SeverityCritical {
//	    // escalate
//	}
package taxonomy
