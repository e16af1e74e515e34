package workers

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/hintline/internal/models"
)

const (
	DefaultAudioStream = "audio:frames"
	DefaultAudioGroup  = "hintd"
)

// AudioSink receives decoded frames, normally the pipeline.
type AudioSink interface {
	SendAudio(source models.Source, frame []byte) error
}

// AudioForwarder moves frames written by the capture process to a Redis
// stream into the live transcription channel. One consumer keeps frames of
// each source in stream order.
type AudioForwarder struct {
	Redis  *redis.Client
	Sink   AudioSink
	Logger *logrus.Logger

	Stream   string
	Group    string
	Consumer string
}

func (f *AudioForwarder) Start(ctx context.Context) error {
	if f.Redis == nil || f.Sink == nil {
		return errors.New("AudioForwarder missing dependency: Redis/Sink must be set")
	}
	if f.Stream == "" {
		f.Stream = DefaultAudioStream
	}
	if f.Group == "" {
		f.Group = DefaultAudioGroup
	}
	if f.Consumer == "" {
		host, _ := os.Hostname()
		f.Consumer = "fwd-" + host
	}
	if f.Logger == nil {
		f.Logger = logrus.New()
	}

	// only frames written from now on; stale audio is useless to live transcription
	if err := f.Redis.XGroupCreateMkStream(ctx, f.Stream, f.Group, "$").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}

	go f.run(ctx)
	return nil
}

func (f *AudioForwarder) run(ctx context.Context) {
	log := f.Logger.WithFields(logrus.Fields{"stream": f.Stream, "group": f.Group})
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := f.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    f.Group,
			Consumer: f.Consumer,
			Streams:  []string{f.Stream, ">"},
			Count:    32,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("audio stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				f.handleMsg(msg)
				_ = f.Redis.XAck(ctx, f.Stream, f.Group, msg.ID).Err()
			}
		}
	}
}

// handleMsg forwards one entry. Malformed entries are logged and dropped.
func (f *AudioForwarder) handleMsg(msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	log := f.Logger.WithField("redis_id", msg.ID)

	raw := getStr("audio_base64")
	if raw == "" {
		log.Warn("audio entry without audio_base64")
		return
	}
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	frame, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.WithError(err).Warn("base64 decode failed")
		return
	}
	if len(frame) == 0 {
		return
	}

	source := models.ParseSource(getStr("source"))
	if err := f.Sink.SendAudio(source, frame); err != nil {
		log.WithError(err).Debug("audio frame not forwarded")
	}
}
