package address

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultsPort(t *testing.T) {
	addr, err := Parse("db1.internal")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "db1.internal", Port: 27017}, addr)
}

func TestParseExplicitPort(t *testing.T) {
	addr, err := Parse("db1.internal:27018")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "db1.internal", Port: 27018}, addr)
}

func TestEqualIsCaseInsensitiveOnHost(t *testing.T) {
	a := Address{Host: "DB1.internal", Port: 27017}
	b := Address{Host: "db1.internal", Port: 27017}
	assert.True(t, a.Equal(b))
}

func TestEqualDiffersOnPort(t *testing.T) {
	a := Address{Host: "db1.internal", Port: 27017}
	b := Address{Host: "db1.internal", Port: 27018}
	assert.False(t, a.Equal(b))
}

func TestStringRendersHostPort(t *testing.T) {
	addr := Address{Host: "db1.internal", Port: 27017}
	assert.Equal(t, "db1.internal:27017", addr.String())
}

func TestDefaultResolverPassesThroughLiteralIP(t *testing.T) {
	addr := Address{Host: "127.0.0.1", Port: 27017}
	out, err := DefaultResolver{}.Resolve(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, []Address{addr}, out)
}
