// Package pin hashes and verifies device credentials (PINs, patterns and
// passphrases) for the software platform using Argon2id and the PHC string
// format.
package pin
