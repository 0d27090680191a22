package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleNextTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	task := Schedule{TaskTime: base, Interval: 60}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"on time", base, base.Add(time.Minute)},
		{"slightly late", base.Add(10 * time.Second), base.Add(time.Minute)},
		{"exactly one period late", base.Add(time.Minute), base.Add(2 * time.Minute)},
		{"missed several periods", base.Add(150 * time.Second), base.Add(3 * time.Minute)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			next := task.NextTime(tt.now)
			assert.True(t, next.Equal(tt.want), "got %s want %s", next, tt.want)
			assert.True(t, next.After(tt.now))
		})
	}
}

func TestScheduleIsRecurring(t *testing.T) {
	assert.False(t, (&Schedule{}).IsRecurring())
	assert.True(t, (&Schedule{Interval: 1}).IsRecurring())
}

func TestTaskType(t *testing.T) {
	assert.Equal(t, "message", TaskTypeMessage.String())
	assert.Equal(t, "local", TaskTypeLocal.String())
	assert.Equal(t, "remote", TaskTypeRemote.String())
	assert.Equal(t, "unknown(7)", TaskType(7).String())

	assert.True(t, TaskTypeRemote.Valid())
	assert.False(t, TaskType(-1).Valid())
}

func TestNewSchedule(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task, err := NewSchedule("syncUser", at, RemoteCallTask{Path: "/users", TimeoutMs: 500})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeRemote, task.Type)
	assert.Equal(t, "syncUser", task.Method)
	assert.True(t, task.TaskTime.Equal(at))

	var payload RemoteCallTask
	require.NoError(t, json.Unmarshal(task.Content, &payload))
	assert.Equal(t, "/users", payload.Path)
	assert.Equal(t, 500, payload.TimeoutMs)

	task, err = NewSchedule("purge", at, LocalCallTask{})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeLocal, task.Type)
}

func TestMessageTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    MessageTask
		wantErr bool
	}{
		{"valid", MessageTask{SceneCode: "s", AppID: "a", Receivers: []string{"u1"}}, false},
		{"broadcast without receivers", MessageTask{SceneCode: "s", AppID: "a", IsBroadcast: true}, false},
		{"missing scene", MessageTask{AppID: "a", Receivers: []string{"u1"}}, true},
		{"missing app", MessageTask{SceneCode: "s", Receivers: []string{"u1"}}, true},
		{"missing receivers", MessageTask{SceneCode: "s", AppID: "a"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
