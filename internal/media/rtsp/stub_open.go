// +build !rtsp

package rtsp

import (
	"github.com/makana/icecore/internal/media"
)

func Open(uri string) (media.VideoSource, error) {
	panic("RTSP support disabled")
}
