package kvmem

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/warehouse"
	"github.com/polydawn/banyan/warehouse/tests"
)

func TestKvmem(t *testing.T) {
	Convey("kvmem store conformance", t, func() {
		store := New(warehouse.Compression_LZ4)
		tests.CheckRoundtrip(store)
		tests.CheckMissing(store)
		tests.CheckIdempotentPut(store)
		tests.CheckKindPreserved(store)
	})
	Convey("kvmem counts distinct records and notices corruption", t, func() {
		store := New(warehouse.Compression_None)
		body := []byte("hello")
		d := api.DigestOf(body)
		So(store.Put(api.ObjectKind_Blob, d, body), ShouldBeNil)
		So(store.Put(api.ObjectKind_Blob, d, body), ShouldBeNil)
		So(store.Len(), ShouldEqual, 1)
		So(store.Digests(), ShouldResemble, []api.Digest{d})
		store.Corrupt(d)
		_, err := store.Get(d)
		So(err, errcat.ErrorShouldHaveCategory, api.ErrCorruptData)
	})
}
