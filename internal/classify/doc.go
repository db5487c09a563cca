// Package classify maps records to partition keys.
//
// A record's partition key is the UTC calendar month of its created_utc
// field and its sanitized subreddit name. Sanitization lower-cases the name,
// strips every character outside [a-z0-9_-] and truncates to 50 bytes, so
// names that differ only by case or punctuation share a shard.
//
// Records are dropped when the sanitized name is empty or, with a non-empty
// allow-list, when the name is not listed. Allow-list entries go through the
// same sanitization after an optional "r/" prefix is removed, which makes
// matching case-insensitive.
package classify
