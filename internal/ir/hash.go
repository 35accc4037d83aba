package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact       = "ruse/fact/v1"
	DomainTuple      = "ruse/tuple/v1"
	DomainActivation = "ruse/activation/v1"
	DomainRuleSet    = "ruse/ruleset/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactKey computes the declared-equality key of a fact: two facts with the
// same type tag and structurally equal values share a key regardless of
// which FactHandle holds them. This is the equality capability truth
// maintenance merges logical justifications on.
func FactKey(typeTag string, value Value) (string, error) {
	obj := Object{
		"type":  String(typeTag),
		"value": value,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FactKey: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainFact, canonical), nil
}

// TupleKey computes the identity of a tuple at a network node: the
// (node, ordered handles) pair. Duplicate tuples at a node are forbidden;
// node memories index on this key.
func TupleKey(nodeID string, handles []int64) string {
	var sb strings.Builder
	sb.WriteString(nodeID)
	for _, h := range handles {
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(h, 10))
	}
	return hashWithDomain(DomainTuple, []byte(sb.String()))
}

// ActivationKey computes the identity of an activation: the (rule, tuple)
// pair. Exactly one activation exists per key at any time.
func ActivationKey(rule, tupleKey string) string {
	return hashWithDomain(DomainActivation, []byte(rule+"\x00"+tupleKey))
}

// RuleSetHash computes a versioning hash over compiled rule specs.
// Stamped on journal entries so a replay can detect rule drift.
func RuleSetHash(specs []RuleSpec) (string, error) {
	arr := make(Array, 0, len(specs))
	for _, spec := range specs {
		obj, err := spec.canonicalObject()
		if err != nil {
			return "", fmt.Errorf("RuleSetHash: rule %q: %w", spec.Name, err)
		}
		arr = append(arr, obj)
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("RuleSetHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainRuleSet, canonical), nil
}

// MustFactKey is like FactKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFactKey(typeTag string, value Value) string {
	key, err := FactKey(typeTag, value)
	if err != nil {
		panic(err)
	}
	return key
}
