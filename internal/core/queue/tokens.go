package queue

import "crypto/subtle"

// TokenSet maps each queue to its pre-shared bearer token (spec §6:
// YAML_VALIDATION_QUEUE_TOKEN, GENERATION_QUEUE_TOKEN). Comparison is
// constant-time so a worker cannot time its way to a valid token.
type TokenSet map[QueueName]string

// Check reports whether token is the configured token for queue. An empty
// configured token always rejects — a queue with no token set accepts no
// workers, rather than silently allowing unauthenticated access.
func (t TokenSet) Check(queue QueueName, token string) bool {
	want, ok := t[queue]
	if !ok || want == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
