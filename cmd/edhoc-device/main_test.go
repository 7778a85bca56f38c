package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-coap/edhoc-go/internal/testharness/mock"
	"github.com/secure-coap/edhoc-go/pkg/edhoc"
	plog "github.com/secure-coap/edhoc-go/pkg/log"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func TestServiceInfo(t *testing.T) {
	info := serviceInfo("dev", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5683}, nil)
	assert.Equal(t, "dev", info.Instance)
	assert.Equal(t, uint16(5683), info.Port)
	assert.Equal(t, mock.ResponderIdentity().Credential.KID(), info.KID)
	assert.Equal(t, []int{edhoc.SuiteCCM64}, info.Suites)
	require.NoError(t, info.Validate())

	info = serviceInfo("dev", fakeAddr{}, []int{3, 2})
	assert.Zero(t, info.Port)
	assert.Equal(t, []int{3, 2}, info.Suites)
}

func TestParseSuites(t *testing.T) {
	suites, err := parseSuites("3, 2,")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, suites)

	suites, err = parseSuites("")
	require.NoError(t, err)
	assert.Empty(t, suites)

	_, err = parseSuites("2,x")
	assert.Error(t, err)
}

func TestProtocolLogger(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	pl, closeLog, err := protocolLogger("", logger)
	require.NoError(t, err)
	closeLog()
	_, ok := pl.(plog.NoopLogger)
	assert.True(t, ok)

	pl, closeLog, err = protocolLogger(filepath.Join(t.TempDir(), "device"+plog.FileExtension), logger)
	require.NoError(t, err)
	defer closeLog()
	_, ok = pl.(plog.NoopLogger)
	assert.False(t, ok)

	_, _, err = protocolLogger(filepath.Join(t.TempDir(), "missing", "x.log"), logger)
	assert.Error(t, err)
}
