package compress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/brpc-go/brpc/compress"
)

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	for _, code := range []compress.Code{compress.NONE, compress.SNAPPY, compress.GZIP, compress.ZLIB} {
		code := code
		t.Run(code.String(), func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)

			reg := compress.NewRegistry()
			codec, err := reg.Get(code)
			require.NoError(t, err)

			in := wrapperspb.String("hello, brpc")
			wire, err := codec.CompressInput(in)
			require.NoError(t, err)

			var out wrapperspb.StringValue
			require.NoError(t, codec.UncompressInput(wire, &out))
			a.Equal(in.GetValue(), out.GetValue())
		})
	}
}

func TestRegistryUnknownCode(t *testing.T) {
	t.Parallel()

	reg := compress.NewRegistry()
	_, err := reg.Get(compress.Code(99))
	assert.ErrorIs(t, err, compress.ErrUnknownCode)
}
