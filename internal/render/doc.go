// Package render turns raw manifest snapshots into the normalized desired
// resource set the differ consumes.
//
// The default Normalizer handles plain multi-document YAML and JSON. A
// TemplateRenderer can be layered on top to expand manifests as Go text
// templates (sprig function map included) against application identity and
// the resolved revision. Either way a render is all-or-nothing: one bad
// document fails the whole attempt.
package render
