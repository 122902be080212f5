// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package pointers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointers(t *testing.T) {
	v := 5
	p := To(v)
	v = 6
	assert.Equal(t, 5, *p, "To copies")

	assert.Equal(t, 5, Deref(p))
	assert.Equal(t, 0, Deref[int](nil))
	assert.Equal(t, "", Deref[string](nil))
	assert.False(t, Deref[bool](nil))

	assert.Equal(t, 5, Or(p, 90))
	assert.Equal(t, 90, Or[int](nil, 90))
}
