package callback

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/pkg/types"
)

func TestDefaultSubscriberRendersPlayAndTaskHeaders(t *testing.T) {
	var buf bytes.Buffer
	sub := NewDefaultSubscriber(&buf)

	sub.Handle(Event{Kind: EventPlayStart, Play: &types.Play{Name: "deploy web"}})
	sub.Handle(Event{Kind: EventTaskStart, Task: &types.Task{Name: "install package"}})

	out := buf.String()
	assert.Contains(t, out, "PLAY [deploy web]")
	assert.Contains(t, out, "TASK [install package]")
}

func TestDefaultSubscriberRendersTaskResultStatus(t *testing.T) {
	var buf bytes.Buffer
	sub := NewDefaultSubscriber(&buf)

	sub.Handle(Event{Kind: EventTaskResult, Result: &types.ExecutionResult{
		Host:    "web1",
		Outcome: types.Outcome{Success: true, Changed: true, Message: "installed"},
	}})

	assert.Contains(t, buf.String(), "changed: [web1] => installed")
}

func TestDefaultSubscriberRecapSummarizesPerHost(t *testing.T) {
	var buf bytes.Buffer
	sub := NewDefaultSubscriber(&buf)

	sub.Handle(Event{Kind: EventTaskResult, Result: &types.ExecutionResult{
		Host:    "web1",
		Outcome: types.Outcome{Success: true, Changed: true},
	}})
	sub.Handle(Event{Kind: EventTaskResult, Result: &types.ExecutionResult{
		Host:    "web1",
		Outcome: types.Outcome{Success: true},
	}})
	sub.Handle(Event{Kind: EventRunEnd})

	out := buf.String()
	assert.Contains(t, out, "PLAY RECAP")
	assert.Contains(t, out, "web1 : ok=2 changed=1 unreachable=0 failed=0 skipped=0")
}

func TestJSONSubscriberEmitsDocumentOnRunEnd(t *testing.T) {
	var buf bytes.Buffer
	sub := NewJSONSubscriber(&buf)

	sub.Handle(Event{Kind: EventPlayStart, Time: time.Now(), Play: &types.Play{Name: "deploy"}})
	sub.Handle(Event{Kind: EventTaskResult, Time: time.Now(), Result: &types.ExecutionResult{
		Host: "web1", TaskName: "install", Outcome: types.Outcome{Success: true, Changed: true, Message: "ok"},
	}})
	sub.Handle(Event{Kind: EventRunEnd, Time: time.Now()})

	var doc struct {
		Events []map[string]interface{} `json:"events"`
		Stats  struct {
			HostStats map[string]*HostStats `json:"HostStats"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Events, 3)
	assert.Equal(t, "play_start", doc.Events[0]["event"])
	assert.Equal(t, 1, doc.Stats.HostStats["web1"].Changed)
}

func TestProfileTasksSubscriberOrdersBySlowest(t *testing.T) {
	var buf bytes.Buffer
	sub := NewProfileTasksSubscriber(&buf)

	sub.Handle(Event{Kind: EventTaskResult, Result: &types.ExecutionResult{TaskName: "fast", Duration: 10 * time.Millisecond}})
	sub.Handle(Event{Kind: EventTaskResult, Result: &types.ExecutionResult{TaskName: "slow", Duration: 500 * time.Millisecond}})
	sub.Handle(Event{Kind: EventRunEnd})

	out := buf.String()
	slowIdx := indexOf(out, "slow")
	fastIdx := indexOf(out, "fast")
	require.True(t, slowIdx >= 0 && fastIdx >= 0)
	assert.Less(t, slowIdx, fastIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
