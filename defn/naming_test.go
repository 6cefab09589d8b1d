package defn_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/iox"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/stretchr/testify/assert"
)

func TestNamingString(t *testing.T) {
	n := defn.MakeApplicationNamingInfo("TimeServer")
	assert.Equal(t, "TimeServer", n.String())

	full := defn.ApplicationNamingInfo{
		ApplicationName:     "TimeServer",
		ApplicationInstance: "1",
		EntityName:          "mgmt",
		EntityInstance:      "7",
	}
	assert.Equal(t, "TimeServer/1/mgmt/7", full.String())
	assert.Equal(t, full, defn.ParseApplicationNamingInfo(full.String()))

	partial := defn.ApplicationNamingInfo{ApplicationName: "a", EntityName: "e"}
	assert.Equal(t, "a//e", partial.String())
	assert.Equal(t, partial, defn.ParseApplicationNamingInfo("a//e"))
}

func TestNamingValidate(t *testing.T) {
	valid := defn.ApplicationNamingInfo{ApplicationName: "rina.time", EntityName: "mgmt"}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, valid, defn.ParseApplicationNamingInfo(valid.String()))

	slashed := defn.MakeApplicationNamingInfo("rina/time")
	assert.ErrorIs(t, slashed.Validate(), defn.ErrInvalidName)
	assert.NotEqual(t, slashed, defn.ParseApplicationNamingInfo(slashed.String()))

	instance := defn.ApplicationNamingInfo{ApplicationName: "rina", EntityInstance: "a/b"}
	assert.ErrorIs(t, instance.Validate(), defn.ErrInvalidName)
}

func TestNamingMatches(t *testing.T) {
	pattern := defn.MakeApplicationNamingInfo("timeserver")
	candidate := defn.ApplicationNamingInfo{ApplicationName: "TimeServer", ApplicationInstance: "2"}
	assert.True(t, pattern.Matches(candidate))
	assert.False(t, pattern.Equal(candidate))
	assert.False(t, candidate.Matches(pattern))

	assert.True(t, defn.ApplicationNamingInfo{}.Matches(candidate))
	assert.False(t, defn.MakeApplicationNamingInfo("EchoServer").Matches(candidate))
}

func TestFlowInformationReverse(t *testing.T) {
	src := defn.MakePipeAddress(".", "client")
	dst := defn.MakePipeAddress(".", "server")
	fi := defn.NewFlowInformation(
		defn.MakeApplicationNamingInfo("Client"),
		defn.MakeApplicationNamingInfo("TimeServer"),
		defn.WithSourceAddress(src),
		defn.WithDestinationAddress(dst),
		defn.WithPolicy("compression", "none"),
		defn.WithHopLimit(3),
	)

	r := fi.Reverse()
	assert.Equal(t, "TimeServer", r.SourceApplication().ApplicationName)
	assert.Equal(t, "Client", r.DestinationApplication().ApplicationName)
	assert.True(t, r.SourceAddress().Equal(dst))
	assert.True(t, r.DestinationAddress().Equal(src))
	assert.Equal(t, 3, r.HopLimit())
	value, ok := r.Policy("compression")
	assert.True(t, ok)
	assert.Equal(t, "none", value)

	// copies of the policy set do not leak into the request
	policies := fi.Policies()
	policies["compression"] = "zlib"
	value, _ = fi.Policy("compression")
	assert.Equal(t, "none", value)
}

func TestPortError(t *testing.T) {
	err := defn.MakePortError(defn.WouldBlock, nil)
	assert.True(t, errors.Is(err, iox.ErrWouldBlock))
	assert.True(t, errors.Is(err, defn.MakePortError(defn.WouldBlock, nil)))
	assert.False(t, errors.Is(err, defn.MakePortError(defn.TimedOut, nil)))
	assert.Equal(t, defn.WouldBlock, defn.PortErrorCodeOf(err))
	assert.Equal(t, defn.Success, defn.PortErrorCodeOf(nil))
	assert.Equal(t, defn.Fault, defn.PortErrorCodeOf(errors.New("other")))

	cause := errors.New("broken pipe")
	wrapped := defn.MakePortError(defn.ConnectionAborted, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "port error ConnectionAborted: broken pipe", wrapped.Error())
}
