// Package ir provides the format-agnostic value model that every parsed
// document is converted into before it reaches the check engine.
//
// This package contains value types and their encodings only. It imports
// nothing internal, so it remains the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - A value is exactly one of IRNull, IRBool, IRNumber, IRString, IRArray, IRObject
//   - Object keys are always strings; scalar keys from YAML are stringified
//   - Numbers are float64: integer-vs-float origin is not preserved and
//     integers above 2^53 lose precision
//   - Trees are built top-down by decoders, so cycles cannot occur
package ir
