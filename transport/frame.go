// Package transport implements the peer wire protocol: single text frames
// prefixed with a constant assembly fingerprint over a plain TCP
// request/reply connection.
package transport

import "errors"

// Fingerprint is the constant assembly fingerprint prefixed to every
// outbound frame and expected (unless debug mode is on) on every inbound
// one. It acts as a cheap membership token, not a cryptographic secret.
const Fingerprint = "SMARTX-NODE-ASM-FINGERPRINT-v1"

// separatorOffset is the single-byte separator position: outbound framing
// always writes '#' there, but inbound frames are accepted by offset alone
// per the observed behavior (spec.md §9) rather than by checking the
// separator's literal value.
const separatorOffset = len(Fingerprint)

// ErrInvalidFingerprint is returned when an inbound frame does not start
// with Fingerprint and debug mode is off.
var ErrInvalidFingerprint = errors.New("Invalid fingerprint detected")

// EncodeFrame produces the outbound wire form of a logical message.
func EncodeFrame(payload string) string {
	return Fingerprint + "#" + payload
}

// DecodeFrame strips the fingerprint from an inbound frame. When debug is
// false, a frame not carrying Fingerprint is rejected.
func DecodeFrame(frame string, debug bool) (string, error) {
	if len(frame) < separatorOffset+1 || frame[:separatorOffset] != Fingerprint {
		if debug {
			return frame, nil
		}
		return "", ErrInvalidFingerprint
	}
	return frame[separatorOffset+1:], nil
}
