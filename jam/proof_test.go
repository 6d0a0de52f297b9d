package jam

import (
	"crypto"
	"fmt"
	"testing"

	test "github.com/matrix-magiq/qvalidator/testutils"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/stretchr/testify/require"
)

func randomItems(n int) [][]byte {
	items := make([][]byte, n)
	for i := range items {
		items[i] = test.RandomBytes(32)
	}
	return items
}

func TestBuildRoot(t *testing.T) {
	_, err := BuildRoot([][]byte{}, crypto.SHA256)
	require.ErrorIs(t, err, ErrEmptyItems)

	items := randomItems(7)
	r1, err := BuildRoot(items, crypto.SHA256)
	require.NoError(t, err)
	r2, err := BuildRoot(items, crypto.SHA256)
	require.NoError(t, err)
	require.Equal(t, r1, r2)

	r3, err := BuildRoot(items, types.DefaultHashAlgorithm)
	require.NoError(t, err)
	require.NotEqual(t, r1, r3)
}

func TestBuildRoot_OrderSensitive(t *testing.T) {
	for n := 2; n <= 17; n++ {
		items := randomItems(n)
		root, err := BuildRoot(items, crypto.SHA256)
		require.NoError(t, err)
		for i := 0; i < n-1; i++ {
			swapped := append([][]byte{}, items...)
			swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
			r, err := BuildRoot(swapped, crypto.SHA256)
			require.NoError(t, err)
			require.NotEqual(t, root, r, "%d items, swapped %d and %d", n, i, i+1)
		}
	}
}

func TestProof_RoundTrip(t *testing.T) {
	for n := 1; n <= 33; n++ {
		items := randomItems(n)
		root, err := BuildRoot(items, crypto.SHA256)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			proof, err := GenerateProof(items[i], items, uint64(i), 42, crypto.SHA256)
			require.NoError(t, err)
			require.EqualValues(t, 42, proof.BlockNumber)
			require.EqualValues(t, n, proof.LeafCount)
			require.Equal(t, root, []byte(proof.Root))
			require.NoError(t, VerifyProof(proof, root, crypto.SHA256), "%d items, index %d", n, i)
			require.True(t, Verify(proof, root, crypto.SHA256))
		}
	}
}

func TestProof_OperationIDs(t *testing.T) {
	ids := []types.OperationID{test.RandomBytes(32), test.RandomBytes(32), test.RandomBytes(32)}
	root, err := BuildRoot(ids, types.DefaultHashAlgorithm)
	require.NoError(t, err)
	proof, err := GenerateProof(ids[2], ids, 2, 1, types.DefaultHashAlgorithm)
	require.NoError(t, err)
	require.NoError(t, VerifyProof(proof, root, types.DefaultHashAlgorithm))
	leaf, err := EncodeItem(ids[2])
	require.NoError(t, err)
	require.EqualValues(t, leaf, proof.JustifiedData)
}

func TestGenerateProof_NotFound(t *testing.T) {
	items := randomItems(4)
	_, err := GenerateProof(items[0], items, 4, 1, crypto.SHA256)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = GenerateProof(items[0], items, 1, 1, crypto.SHA256)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = GenerateProof(items[0], nil, 0, 1, crypto.SHA256)
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestVerifyProof_Tamper(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 13} {
		items := randomItems(n)
		root, err := BuildRoot(items, crypto.SHA256)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			proof, err := GenerateProof(items[i], items, uint64(i), 1, crypto.SHA256)
			require.NoError(t, err)
			// every byte of justified data
			for b := range proof.JustifiedData {
				p := proof.Copy()
				p.JustifiedData[b] ^= 0x01
				require.ErrorIs(t, VerifyProof(p, root, crypto.SHA256), ErrInvalidProof)
			}
			// every byte of every sibling
			for s := range proof.Path {
				for b := range proof.Path[s] {
					p := proof.Copy()
					p.Path[s][b] ^= 0x80
					require.ErrorIs(t, VerifyProof(p, root, crypto.SHA256), ErrInvalidProof)
				}
			}
		}
	}
}

func TestVerifyProof_Malformed(t *testing.T) {
	items := randomItems(5)
	root, err := BuildRoot(items, crypto.SHA256)
	require.NoError(t, err)
	proof, err := GenerateProof(items[4], items, 4, 1, crypto.SHA256)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(p *types.JamProof) *types.JamProof
		root   []byte
	}{
		{name: "nil proof", modify: func(*types.JamProof) *types.JamProof { return nil }, root: root},
		{name: "index out of range", modify: func(p *types.JamProof) *types.JamProof { p.LeafIndex = 5; return p }, root: root},
		{name: "zero leaf count", modify: func(p *types.JamProof) *types.JamProof { p.LeafCount = 0; return p }, root: root},
		{name: "other index", modify: func(p *types.JamProof) *types.JamProof { p.LeafIndex = 3; return p }, root: root},
		{name: "other leaf count", modify: func(p *types.JamProof) *types.JamProof { p.LeafCount = 8; return p }, root: root},
		{name: "path too long", modify: func(p *types.JamProof) *types.JamProof { p.Path = append(p.Path, p.Path[0]); return p }, root: root},
		{name: "path too short", modify: func(p *types.JamProof) *types.JamProof { p.Path = p.Path[:0]; return p }, root: root},
		{name: "proof root differs", modify: func(p *types.JamProof) *types.JamProof { p.Root = test.RandomBytes(32); return p }, root: root},
		{name: "other expected root", modify: func(p *types.JamProof) *types.JamProof { return p }, root: test.RandomBytes(32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.modify(proof.Copy())
			err := VerifyProof(p, tt.root, crypto.SHA256)
			require.ErrorIs(t, err, ErrInvalidProof)
			require.False(t, Verify(p, tt.root, crypto.SHA256))
		})
	}
}

func ExampleGenerateProof() {
	items := []string{"a", "b", "c"}
	root, _ := BuildRoot(items, crypto.SHA256)
	proof, _ := GenerateProof("c", items, 2, 7, crypto.SHA256)
	fmt.Println(len(proof.Path), Verify(proof, root, crypto.SHA256))
	// Output: 1 true
}
