// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package spec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash returns the spec's stable content fingerprint: sha256 over the
// canonical JSON encoding. encoding/json sorts map keys, so two specs with
// equal content always hash equal regardless of declaration order. The hash
// is used for resume compatibility checks.
func (s *Spec) Hash() string {
	data, err := json.Marshal(s)
	if err != nil {
		// Spec is plain data; marshaling can only fail on a corrupted value.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
