// Package logx configures remindbot's structured logging.
//
// logx.Logger is a thin value wrapper over zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output stays JSON-structured
//   - WARN and above can be mirrored to the operator chat (rate limited)
package logx
