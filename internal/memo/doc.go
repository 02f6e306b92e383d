// Package memo memoizes generated text per group, item and language.
//
// Every group is one record in a kv.Store under "sarthi_chapter_<group>",
// holding a JSON object that maps "<item>_<language>" to the generated text.
// Entries never expire and are never evicted.
package memo
