/*
Conformance checks for `warehouse.Store` implementations.
Call them from inside a Convey with a fresh, empty store.
*/
package tests

import (
	"bytes"
	"fmt"
	"sync"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/warehouse"
)

func CheckRoundtrip(store warehouse.Store) {
	Convey("put then get should roundtrip", func() {
		for i, body := range [][]byte{
			[]byte{},
			[]byte("short"),
			bytes.Repeat([]byte("compressible "), 4000),
		} {
			Convey(fmt.Sprintf("body %d", i), func() {
				d := api.DigestOf(body)
				So(store.Put(api.ObjectKind_Blob, d, body), ShouldBeNil)
				ok, err := store.Contains(d)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				rec, err := store.Get(d)
				So(err, ShouldBeNil)
				So(rec.Kind, ShouldEqual, api.ObjectKind_Blob)
				So(bytes.Equal(rec.Data, body), ShouldBeTrue)
				So(store.Sync(), ShouldBeNil)
			})
		}
	})
}

func CheckMissing(store warehouse.Store) {
	Convey("missing digests should be reported as not found", func() {
		d := api.DigestOf([]byte("never stored"))
		ok, err := store.Contains(d)
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)
		_, err = store.Get(d)
		So(err, errcat.ErrorShouldHaveCategory, api.ErrNotFound)
	})
}

func CheckIdempotentPut(store warehouse.Store) {
	Convey("putting the same digest repeatedly and concurrently should converge", func() {
		body := []byte("same bytes every time")
		d := api.DigestOf(body)
		var wg sync.WaitGroup
		errs := make([]error, 16)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.Put(api.ObjectKind_Blob, d, body)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			So(err, ShouldBeNil)
		}
		So(store.Put(api.ObjectKind_Blob, d, body), ShouldBeNil)
		rec, err := store.Get(d)
		So(err, ShouldBeNil)
		So(string(rec.Data), ShouldEqual, string(body))
	})
}

func CheckKindPreserved(store warehouse.Store) {
	Convey("record kinds should be preserved", func() {
		chunks := []api.ChunkRef{
			{Digest: api.DigestOf([]byte("a")), Offset: 0, Length: 1},
			{Digest: api.DigestOf([]byte("b")), Offset: 1, Length: 1},
		}
		body, err := warehouse.EncodeChunkIndex(chunks)
		So(err, ShouldBeNil)
		d := api.ObjectDigest(api.ObjectKind_ChunkIndex, body)
		So(store.Put(api.ObjectKind_ChunkIndex, d, body), ShouldBeNil)
		rec, err := store.Get(d)
		So(err, ShouldBeNil)
		So(rec.Kind, ShouldEqual, api.ObjectKind_ChunkIndex)
		decoded, err := warehouse.DecodeChunkIndex(d, rec.Data)
		So(err, ShouldBeNil)
		So(decoded, ShouldResemble, chunks)
	})
}
