package jtype

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolver_Field(t *testing.T) {
	tests := []struct {
		desc     string
		wantKind Kind
		wantName string
		wantSize int
	}{
		{desc: "I", wantKind: Int, wantSize: 1},
		{desc: "Z", wantKind: Int, wantSize: 1},
		{desc: "C", wantKind: Int, wantSize: 1},
		{desc: "J", wantKind: Long, wantSize: 2},
		{desc: "D", wantKind: Double, wantSize: 2},
		{desc: "F", wantKind: Float, wantSize: 1},
		{desc: "Ljava/lang/String;", wantKind: Reference, wantName: "java/lang/String", wantSize: 1},
		{desc: "[I", wantKind: Reference, wantName: "[I", wantSize: 1},
		{desc: "[[Ljava/util/List;", wantKind: Reference, wantName: "[[Ljava/util/List;", wantSize: 1},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := r.Field(tt.desc)
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, got.Kind())
			require.Equal(t, tt.wantName, got.Name())
			require.Equal(t, tt.wantSize, got.Size())
			require.False(t, got.IsNonNull())
		})
	}
}

func TestResolver_FieldErrors(t *testing.T) {
	r := NewResolver()
	for _, desc := range []string{"", "X", "Ljava/lang/String", "L;", "II", "["} {
		_, err := r.Field(desc)
		require.Error(t, err, desc)
	}
}

func TestResolver_Method(t *testing.T) {
	r := NewResolver()

	sig, err := r.Method("(IJLjava/lang/String;[D)V")
	require.NoError(t, err)
	require.Len(t, sig.Params, 4)
	require.Nil(t, sig.Return)
	require.Equal(t, 5, sig.ArgSlots())

	sig, err = r.Method("()Ljava/lang/Object;")
	require.NoError(t, err)
	require.Empty(t, sig.Params)
	require.Equal(t, ObjectClass, sig.Return.Name())

	again, err := r.Method("()Ljava/lang/Object;")
	require.NoError(t, err)
	require.Same(t, sig, again)

	for _, bad := range []string{"V", "(I", "(I)", "(Q)V", "()VV"} {
		_, err := r.Method(bad)
		require.Error(t, err, bad)
	}
}

func TestResolver_Element(t *testing.T) {
	r := NewResolver()
	require.Equal(t, Int, r.Element(Object("[I")).Kind())
	require.Equal(t, "[I", r.Element(Object("[[I")).Name())
	require.Equal(t, "java/lang/String", r.Element(Object("[Ljava/lang/String;")).Name())
	require.Equal(t, ObjectClass, r.Element(Object("java/util/List")).Name())
}

// TestResolver_Concurrent tests that concurrent lookups agree on one cached value.
func TestResolver_Concurrent(t *testing.T) {
	r := NewResolver()
	var wg sync.WaitGroup
	results := make([]*Signature, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig, err := r.Method("(Ljava/lang/Object;)I")
			if err == nil {
				results[i] = sig
			}
		}()
	}
	wg.Wait()
	for _, sig := range results {
		require.NotNil(t, sig)
		require.Equal(t, Int, sig.Return.Kind())
	}
}

func TestType(t *testing.T) {
	obj := Object("java/lang/String")
	require.False(t, obj.Equal(NonNullObject("java/lang/String")))
	require.True(t, obj.Equal(Object("java/lang/String")))
	require.Equal(t, "java.lang.String", obj.String())
	require.Equal(t, "java.lang.String!", NonNullObject("java/lang/String").String())
	require.Equal(t, "Ljava/lang/String;", obj.Descriptor())

	u := UninitializedOf("a/B", 3)
	require.True(t, u.IsReference())
	require.Equal(t, 3, u.Target())
	require.True(t, u.Initialized().Equal(NonNullObject("a/B")))
	require.True(t, NullType.IsNull())
	require.True(t, NullType.IsReference())
	require.True(t, Object("[I").IsArray())
	require.Equal(t, "int[][]", ClassName("[[I"))
	require.Equal(t, "java.lang.Object[]", ClassName("[Ljava/lang/Object;"))
}
