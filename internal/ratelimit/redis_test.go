package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_Take(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedisLimiter(client)
	fixed := time.Unix(1_740_730_536, 0)
	l.now = func() time.Time { return fixed }

	key := KeyPrefix + "threat-ingest:cvt_abc"
	mock.ExpectEvalSha(takeScript.Hash(), []string{key}, int64(3), int64(60000)).
		SetVal([]interface{}{int64(3), int64(60000)})
	mock.ExpectEvalSha(takeScript.Hash(), []string{key}, int64(3), int64(60000)).
		SetVal([]interface{}{int64(6), int64(42000)})

	res, err := l.Take(context.Background(), "threat-ingest:cvt_abc", 3, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, fixed.Add(time.Minute), res.ResetAt)

	res, err = l.Take(context.Background(), "threat-ingest:cvt_abc", 3, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(6), res.Count)
	assert.Equal(t, fixed.Add(42*time.Second), res.ResetAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_BackendDownFailsClosed(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := KeyPrefix + "threat-ingest:cvt_abc"
	mock.ExpectEvalSha(takeScript.Hash(), []string{key}, int64(2), int64(60000)).
		SetErr(errors.New("dial tcp: connection refused"))

	g := Guard{Limiter: NewRedisLimiter(client), Site: "ingest", Limit: 500, Window: time.Minute}
	res, err := g.Allow(context.Background(), "threat-ingest:cvt_abc", 2)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, res.Allowed)
}

func TestRedisLimiter_UnexpectedReply(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := KeyPrefix + "x"
	mock.ExpectEvalSha(takeScript.Hash(), []string{key}, int64(1), int64(1000)).SetVal("OK")

	_, err := NewRedisLimiter(client).Take(context.Background(), "x", 1, 1, time.Second)
	assert.Error(t, err)
}
