// Package kv provides the small persistent string store the reader keeps its
// preferences, credential, chat history and memoized translations in.
package kv
