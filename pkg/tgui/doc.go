// Package tgui holds small rendering helpers for Telegram messages: HTML
// parse-mode escaping, user mentions, rune-safe truncation and paging.
package tgui
