package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandTopicIsPerRobot(t *testing.T) {
	require.Equal(t, "/robot/r1/command", CommandTopic("r1"))
	require.Equal(t, "/robot/pool-west-07/command", CommandTopic("pool-west-07"))
}

func TestCommandMessageWireFormat(t *testing.T) {
	payload, err := json.Marshal(commandMessage{Status: "roaming"})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"roaming"}`, string(payload))
}

func TestStatusTopicIsShared(t *testing.T) {
	require.Equal(t, "/robot/updatestatus", StatusTopic)
}
