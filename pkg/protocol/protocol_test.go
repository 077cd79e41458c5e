package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	in, err := Parse([]byte(`{"tipo":"estado","valor":"thinking"}`))
	require.NoError(t, err)
	assert.Equal(t, KindStatus, in.Kind)
	assert.Equal(t, "thinking", in.Value)

	in, err = Parse([]byte(`{"tipo":"transcricao","texto":"quero um filme"}`))
	require.NoError(t, err)
	assert.Equal(t, KindTranscription, in.Kind)
	assert.Equal(t, "quero um filme", in.Text)

	in, err = Parse([]byte(`{"tipo":"resposta","texto":"olá","audio_url":"/static/fala_1.mp3","estado":"speaking","debug":{"intencao":"chat"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindReply, in.Kind)
	assert.Equal(t, "/static/fala_1.mp3", in.AudioURL)
	assert.True(t, in.HasDebug())
}

func TestParseRejects(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Parse([]byte(`{"tipo":"ping"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Parse([]byte(`{"tipo":"estado"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestHasDebugNull(t *testing.T) {
	in, err := Parse([]byte(`{"tipo":"resposta","texto":"x","audio_url":"/a.mp3","debug":null}`))
	require.NoError(t, err)
	assert.False(t, in.HasDebug())
}

func TestNewAudioMessage(t *testing.T) {
	msg := NewAudioMessage([]byte("RIFF1234"))

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"audio_data":"`+base64.StdEncoding.EncodeToString([]byte("RIFF1234"))+`"}`, string(b))
}

func TestParseDebug(t *testing.T) {
	raw := json.RawMessage(`{"intencao":"filme","filtros_extraidos":{"genero":"terror","ano_min":1990},"filmes_encontrados":12,"filme_selecionado":"O Iluminado","extra":true}`)

	d, err := ParseDebug(raw)
	require.NoError(t, err)
	assert.Equal(t, "filme", d.Intent)
	assert.Equal(t, float64(12), d.MoviesFound)
	assert.Equal(t, "O Iluminado", d.SelectedMovie)
	assert.Equal(t, "terror", d.Filters["genero"])
	assert.Contains(t, string(d.Raw), `"extra":true`)
	assert.Contains(t, d.FiltersJSON(), `"genero": "terror"`)
}

func TestParseDebugNullFields(t *testing.T) {
	d, err := ParseDebug(json.RawMessage(`{"intencao":"chat","filtros_extraidos":null,"filme_selecionado":null}`))
	require.NoError(t, err)
	assert.Equal(t, "chat", d.Intent)
	assert.Equal(t, "{}", d.FiltersJSON())
}

func TestParseDebugMalformed(t *testing.T) {
	for _, raw := range []string{
		`"just a string"`,
		`[1,2,3]`,
		`{"intencao":42}`,
		`{"filmes_encontrados":"many"}`,
		`{"filtros_extraidos":[1]}`,
	} {
		_, err := ParseDebug(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrBadDebug, raw)
	}
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":        "ws://localhost:8000/ws",
		"https://kino.example.com":     "wss://kino.example.com/ws",
		"https://kino.example.com/app": "wss://kino.example.com/ws",
		"ws://10.0.0.2:9000":           "ws://10.0.0.2:9000/ws",
		"wss://h/":                     "wss://h/ws",
	}
	for origin, want := range cases {
		got, err := Endpoint(origin)
		require.NoError(t, err, origin)
		assert.Equal(t, want, got, origin)
	}

	_, err := Endpoint("ftp://host")
	assert.Error(t, err)
	_, err = Endpoint("localhost")
	assert.Error(t, err)
}

func TestAudioURL(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	got, err := AudioURL("http://localhost:8000", "/static/fala_1.mp3", now)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/static/fala_1.mp3?t=1700000000123", got)

	got, err = AudioURL("https://h", "https://cdn.example/a.mp3?x=1", now)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp3?t=1700000000123&x=1", got)
}

func TestAssetURL(t *testing.T) {
	got, err := AssetURL("http://localhost:8000/", "idle.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/idle.png", got)
}
