// Package tpm implements a keystore backend whose key material never leaves a
// TPM 2.0.
//
// Each record stores only a random 32-byte unique value. The HMAC key is the
// keyed-hash primary object the TPM derives from its owner hierarchy seed and
// a template carrying that unique value, so the same record always yields
// the same key while the key itself is never exported.
package tpm
