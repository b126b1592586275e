package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSha256Hex_IsStableAndContentSensitive(t *testing.T) {
	a := sha256Hex([]byte("payload-a"))
	b := sha256Hex([]byte("payload-b"))
	aAgain := sha256Hex([]byte("payload-a"))

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, aAgain)
	assert.Len(t, a, 64) // hex-encoded sha256
}

func TestXorDigest_IsOrderSensitive(t *testing.T) {
	ab := xorDigest("a", "b")
	ba := xorDigest("b", "a")
	assert.NotEqual(t, ab, ba)
	assert.Equal(t, ab, xorDigest("a", "b"))
}

func TestSubmitValidate_EncodeErrorNeverReachesQueue(t *testing.T) {
	wantErr := errors.New("boom")
	d := New(nil, func(v interface{}) ([]byte, error) { return nil, wantErr })

	_, err := d.SubmitValidate(context.Background(), ValidatePayload{RoomID: "room-1"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestSubmitGenerate_EncodeErrorNeverReachesQueue(t *testing.T) {
	wantErr := errors.New("boom")
	d := New(nil, func(v interface{}) ([]byte, error) { return nil, wantErr })

	_, err := d.SubmitGenerate(context.Background(), GeneratePayload{RoomID: "room-1"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestDedupeKeys_DependOnRelevantFields(t *testing.T) {
	p1 := ValidatePayload{FileBlob: []byte("a"), ManifestSnapshotID: "snap-1"}
	p2 := ValidatePayload{FileBlob: []byte("a"), ManifestSnapshotID: "snap-2"}
	key1 := xorDigest(sha256Hex(p1.FileBlob), p1.ManifestSnapshotID)
	key2 := xorDigest(sha256Hex(p2.FileBlob), p2.ManifestSnapshotID)
	assert.NotEqual(t, key1, key2, "changing manifest_snapshot_id must change the dedupe key")

	g1 := GeneratePayload{RoomID: "room-1", RoomBundleBlob: []byte("bundle")}
	g2 := GeneratePayload{RoomID: "room-2", RoomBundleBlob: []byte("bundle")}
	gkey1 := xorDigest(g1.RoomID, sha256Hex(g1.RoomBundleBlob))
	gkey2 := xorDigest(g2.RoomID, sha256Hex(g2.RoomBundleBlob))
	assert.NotEqual(t, gkey1, gkey2, "changing room_id must change the dedupe key")
}
