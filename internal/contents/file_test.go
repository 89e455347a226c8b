// Copyright 2024 DriveFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package contents

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivefs/internal/common"
)

func TestFormatValid(t *testing.T) {
	t.Parallel()

	assert.True(t, FormatJSON.Valid())
	assert.True(t, FormatText.Valid())
	assert.True(t, FormatBase64.Valid())
	assert.False(t, Format("").Valid())
	assert.False(t, Format("binary").Valid())
}

func TestDecodeFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		format  Format
		want    []byte
	}{
		{"text", "hello", FormatText, []byte("hello")},
		{"json", `{"a":1}`, FormatJSON, []byte(`{"a":1}`)},
		{"utf8 text", "héllo ✓", FormatText, []byte("héllo ✓")},
		{"base64", "AAEC/w==", FormatBase64, []byte{0, 1, 2, 255}},
		{"empty base64", "", FormatBase64, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := DecodeFile(tt.content, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Data)
			assert.Equal(t, tt.format, f.Format)
			assert.Equal(t, int64(len(tt.want)), f.Size())
		})
	}
}

func TestDecodeFile_BadFormat(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{"", "xml", "BASE64"} {
		_, err := DecodeFile("x", format)
		assert.True(t, errors.Is(err, common.ErrBadFormat), "format %q", format)
	}
}

func TestDecodeFile_BadBase64(t *testing.T) {
	t.Parallel()

	_, err := DecodeFile("not base64!", FormatBase64)
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrBadFormat))
}

// Encoding must invert decoding for every format.
func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content string
		format  Format
	}{
		{`{"cells":[]}`, FormatJSON},
		{"line one\nline two\n", FormatText},
		{"", FormatText},
		{"3q2+7w==", FormatBase64},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			t.Parallel()
			f, err := DecodeFile(tt.content, tt.format)
			require.NoError(t, err)
			encoded, err := f.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.content, encoded)
		})
	}
}

func TestEncode_BinaryRoundTrip(t *testing.T) {
	t.Parallel()

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	f := &File{Data: data, Format: FormatBase64}
	encoded, err := f.Encode()
	require.NoError(t, err)

	back, err := DecodeFile(encoded, FormatBase64)
	require.NoError(t, err)
	assert.Equal(t, data, back.Data)
}

func TestEncode_InvalidUTF8IsReplaced(t *testing.T) {
	t.Parallel()

	f := &File{Data: []byte{'a', 0xff, 'b'}, Format: FormatText}
	encoded, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, "a�b", encoded)
}

func TestEncode_BadFormat(t *testing.T) {
	t.Parallel()

	_, err := (&File{Data: []byte("x"), Format: "zip"}).Encode()
	assert.True(t, errors.Is(err, common.ErrBadFormat))
}
