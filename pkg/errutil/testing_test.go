// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/vendorhub/vendorhub/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	errutil.AssertErrorContext(t, err, "user_id", "123")
}
