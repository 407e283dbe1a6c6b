package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Apezdr/hls-prototype-sub001/internal/ffmpegproc"
)

func TestDefaultOrdersRungsLowestBandwidthFirst(t *testing.T) {
	cat := Default()
	assert.GreaterOrEqual(t, len(cat.VideoRungs), 2)
	for i := 1; i < len(cat.VideoRungs); i++ {
		assert.LessOrEqual(t, cat.VideoRungs[i-1].BitrateKbps, cat.VideoRungs[i].BitrateKbps)
	}
}

func TestVariantForKnownLabelResolvesFields(t *testing.T) {
	cat := Default()
	v, ok := cat.VariantFor("720p")
	assert.True(t, ok)
	assert.Equal(t, ffmpegproc.KindVideo, v.Kind)
	assert.Equal(t, 1280, v.Width)
	assert.Equal(t, 720, v.Height)
	assert.True(t, v.HWAccel)
}

func TestVariantForUnknownLabelReturnsFalse(t *testing.T) {
	cat := Default()
	_, ok := cat.VariantFor("4k-ultra-max")
	assert.False(t, ok)
}

func TestAudioLabelMatchesFormatConvention(t *testing.T) {
	cat := Default()
	assert.Equal(t, "audio_0_aac", cat.AudioLabel())
	assert.Equal(t, "audio_2_ac3", AudioLabelFor(2, "ac3"))
}

func TestAudioVariantCarriesTrackIndexAndCodec(t *testing.T) {
	cat := Default()
	v := cat.AudioVariant()
	assert.Equal(t, ffmpegproc.KindAudio, v.Kind)
	assert.Equal(t, cat.AudioTrackIndex, v.AudioTrackIndex)
	assert.Equal(t, cat.AudioCodec, v.AudioCodec)
	assert.Equal(t, "audio_0_aac", v.Label)
}

func TestHEVCRungRequestsFMP4(t *testing.T) {
	cat := Default()
	v, ok := cat.VariantFor("2160p")
	assert.True(t, ok)
	assert.True(t, v.FMP4)
	assert.Equal(t, "hevc", v.VideoCodec)
}
