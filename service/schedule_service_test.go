package service

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"message_center/model"
	"message_center/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func addTask(t *testing.T, svc *ScheduleService, taskType model.TaskType, method string, taskTime time.Time) *model.Schedule {
	t.Helper()
	task := &model.Schedule{Type: taskType, Method: method, TaskTime: taskTime, Content: datatypes.JSON(`{}`)}
	require.NoError(t, svc.Add(testContext(t), task))
	return task
}

func TestScheduleDue(t *testing.T) {
	db := newTestDB(t)
	svc := NewScheduleService(db)
	now := baseTime()

	due := addTask(t, svc, model.TaskTypeLocal, "a", now.Add(-time.Minute))
	exact := addTask(t, svc, model.TaskTypeLocal, "b", now)
	addTask(t, svc, model.TaskTypeLocal, "future", now.Add(time.Minute))
	addTask(t, svc, model.TaskTypeRemote, "other_type", now.Add(-time.Minute))
	invalid := addTask(t, svc, model.TaskTypeLocal, "invalid", now.Add(-time.Hour))
	require.NoError(t, db.Model(&model.Schedule{}).Where("id = ?", invalid.ID).Update("is_invalid", true).Error)

	tasks, err := svc.Due(testContext(t), model.TaskTypeLocal, now)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, due.ID, tasks[0].ID)
	assert.Equal(t, exact.ID, tasks[1].ID)
}

func TestScheduleAdd_Validation(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))

	tests := []struct {
		name string
		task model.Schedule
	}{
		{"unknown type", model.Schedule{Type: model.TaskType(9), Method: "m", Content: datatypes.JSON(`{}`)}},
		{"empty method", model.Schedule{Type: model.TaskTypeLocal, Content: datatypes.JSON(`{}`)}},
		{"empty content", model.Schedule{Type: model.TaskTypeLocal, Method: "m"}},
		{"negative interval", model.Schedule{Type: model.TaskTypeLocal, Method: "m", Content: datatypes.JSON(`{}`), Interval: -1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Add(testContext(t), &tt.task)
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
}

func TestScheduleAdd_Defaults(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))

	task, err := model.NewSchedule(MethodSendMessage, time.Time{}, model.MessageTask{SceneCode: "s", AppID: "a", Receivers: []string{"u1"}})
	require.NoError(t, err)
	before := time.Now()
	require.NoError(t, svc.Add(testContext(t), task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskTypeMessage, task.Type)
	assert.False(t, task.TaskTime.Before(before))

	got, err := svc.Get(testContext(t), task.ID)
	require.NoError(t, err)
	var payload model.MessageTask
	require.NoError(t, json.Unmarshal(got.Content, &payload))
	assert.Equal(t, []string{"u1"}, payload.Receivers)
}

func TestScheduleRemove_Idempotent(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	task := addTask(t, svc, model.TaskTypeLocal, "a", baseTime())

	require.NoError(t, svc.Remove(testContext(t), task.ID))
	require.NoError(t, svc.Remove(testContext(t), task.ID))
	require.NoError(t, svc.Remove(testContext(t), "never-existed"))

	_, err := svc.Get(testContext(t), task.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestScheduleEnsureTask(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))

	first, err := NewPurgeTask(time.Hour)
	require.NoError(t, err)
	created, err := svc.EnsureTask(testContext(t), first)
	require.NoError(t, err)
	assert.True(t, created)

	second, err := NewPurgeTask(time.Hour)
	require.NoError(t, err)
	created, err = svc.EnsureTask(testContext(t), second)
	require.NoError(t, err)
	assert.False(t, created)

	tasks, total, err := svc.List(testContext(t), nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tasks, 1)
	assert.Equal(t, 3600, tasks[0].Interval)
}

func TestScheduleClaim_Exclusive(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	now := baseTime()
	addTask(t, svc, model.TaskTypeLocal, "a", now)

	// 多个执行者读到同一快照，只有一个能领取成功
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := svc.Due(testContext(t), model.TaskTypeLocal, now)
			if err != nil || len(tasks) != 1 {
				return
			}
			ok, err := svc.Claim(testContext(t), &tasks[0], now, time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestScheduleClaim_LeaseAndSnapshot(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	now := baseTime()
	task := addTask(t, svc, model.TaskTypeLocal, "a", now)

	snapshot := *task
	ok, err := svc.Claim(testContext(t), task, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, task.LeaseUntil)

	// 租约未到期
	stale := snapshot
	ok, err = svc.Claim(testContext(t), &stale, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 租约到期后可以重新领取
	stale = snapshot
	ok, err = svc.Claim(testContext(t), &stale, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// 执行次数已变化的快照不能领取
	task.Count = 1
	task.LeaseUntil = nil
	require.NoError(t, svc.Save(testContext(t), task))
	stale = snapshot
	ok, err = svc.Claim(testContext(t), &stale, now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleSave(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	now := baseTime()
	task := addTask(t, svc, model.TaskTypeLocal, "a", now)

	task.Count = 2
	task.Failures = 2
	task.IsInvalid = true
	task.TaskTime = now.Add(time.Hour)
	require.NoError(t, svc.Save(testContext(t), task))

	got, err := svc.Get(testContext(t), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 2, got.Failures)
	assert.True(t, got.IsInvalid)
	assert.True(t, got.TaskTime.Equal(now.Add(time.Hour)))

	// 写回零值
	task.Failures = 0
	task.IsInvalid = false
	require.NoError(t, svc.Save(testContext(t), task))
	got, err = svc.Get(testContext(t), task.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Failures)
	assert.False(t, got.IsInvalid)
}

func TestScheduleSave_AfterRemoveDoesNotReinsert(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	task := addTask(t, svc, model.TaskTypeLocal, "a", baseTime())

	require.NoError(t, svc.Remove(testContext(t), task.ID))
	task.Count = 1
	assert.ErrorIs(t, svc.Save(testContext(t), task), utils.ErrNotFound)

	_, err := svc.Get(testContext(t), task.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestScheduleList(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	now := baseTime()
	addTask(t, svc, model.TaskTypeLocal, "a", now)
	addTask(t, svc, model.TaskTypeLocal, "b", now.Add(time.Minute))
	addTask(t, svc, model.TaskTypeRemote, "c", now)

	local := model.TaskTypeLocal
	tasks, total, err := svc.List(testContext(t), &local, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].Method)

	_, total, err = svc.List(testContext(t), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestScheduleRelease(t *testing.T) {
	svc := NewScheduleService(newTestDB(t))
	now := baseTime()
	task := addTask(t, svc, model.TaskTypeLocal, "a", now)

	snapshot := *task
	ok, err := svc.Claim(testContext(t), task, now, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Release(testContext(t), task))
	assert.Nil(t, task.LeaseUntil)

	got, err := svc.Get(testContext(t), task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LeaseUntil)
	assert.Zero(t, got.Count)

	// 释放后租约期内也可以重新领取
	ok, err = svc.Claim(testContext(t), &snapshot, now, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// 执行次数已变化的旧快照不会释放当前租约
	stale := *task
	stale.Count = 5
	require.NoError(t, svc.Release(testContext(t), &stale))
	got, err = svc.Get(testContext(t), task.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LeaseUntil)

	// 已删除的任务
	require.NoError(t, svc.Remove(testContext(t), task.ID))
	assert.NoError(t, svc.Release(testContext(t), task))
}
