// Package password implements one-way credential hashing with argon2id.
// Digests use the PHC string format and carry their own parameters, so the
// configured work factor can be raised without invalidating stored hashes.
package password
