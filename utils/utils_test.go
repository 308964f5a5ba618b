package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", BytesMD5(nil))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", BytesMD5([]byte("hello")))
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestInitLogger(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	for _, mode := range []string{"debug", "release"} {
		assert.NoError(t, InitLogger(mode))
		assert.NotNil(t, Logger)
		Sync()
	}
}
