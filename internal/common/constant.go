package common

// AuthorizationHeaderName carries the identity provider's bearer token on
// inbound API requests.
const AuthorizationHeaderName = "Authorization"

// IdempotencyKeyHeaderName lets callers safely repeat a provisioning request.
const IdempotencyKeyHeaderName = "Idempotency-Key"

// ExperimentIDAlphabet is the 62-symbol alphabet experiment ids are drawn from.
const ExperimentIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ExperimentIDLength is the number of symbols in an experiment id.
const ExperimentIDLength = 12
