package auth

// Package auth provides operator authentication for the lockr daemon.
//
// Design:
// - Account passwords live sealed in the vault and are checked by the locker.
// - The operator (admin) credential is a crypt(3) hash from the config file.
// - Sessions are HS256 JWTs carried in a cookie or a bearer header.
