package session

import "time"

// audioLimiter is a token bucket over inbound audio, limiting both frames
// per second and bytes per second. A nil limiter allows everything.
type audioLimiter struct {
	now        func() time.Time
	frameRate  int64
	byteRate   int64
	frameTok   int64
	byteTok    int64
	burstSecs  int64
	lastRefill time.Time
}

func newAudioLimiter(now func() time.Time, framesPerSec int, bytesPerSec int64, burstSeconds int) *audioLimiter {
	if framesPerSec <= 0 && bytesPerSec <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	l := &audioLimiter{
		now:        now,
		frameRate:  int64(framesPerSec),
		byteRate:   bytesPerSec,
		burstSecs:  int64(burstSeconds),
		lastRefill: now(),
	}
	l.frameTok = l.frameRate * l.burstSecs
	l.byteTok = l.byteRate * l.burstSecs
	return l
}

// allow consumes tokens for one frame of n bytes, reporting false when the
// session is sending audio too fast.
func (l *audioLimiter) allow(n int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if n < 0 {
		n = 0
	}
	if l.frameRate > 0 && l.frameTok < 1 {
		return false
	}
	if l.byteRate > 0 && l.byteTok < int64(n) {
		return false
	}
	if l.frameRate > 0 {
		l.frameTok--
	}
	if l.byteRate > 0 {
		l.byteTok -= int64(n)
	}
	return true
}

func (l *audioLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	if l.frameRate > 0 {
		l.frameTok += elapsed.Nanoseconds() * l.frameRate / int64(time.Second)
		if maxTok := l.frameRate * l.burstSecs; l.frameTok > maxTok {
			l.frameTok = maxTok
		}
	}
	if l.byteRate > 0 {
		l.byteTok += elapsed.Nanoseconds() * l.byteRate / int64(time.Second)
		if maxTok := l.byteRate * l.burstSecs; l.byteTok > maxTok {
			l.byteTok = maxTok
		}
	}
	l.lastRefill = now
}
