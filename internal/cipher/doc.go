package cipher

// Package cipher seals short secrets with AES-128 in CBC mode.
//
// Sealed layout:
//   iv (16 bytes) || ciphertext (padded to a multiple of 16)
//
// Padding is PKCS#7: an already aligned input gains a full block.
