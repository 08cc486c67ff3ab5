package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	alohartc "github.com/makana/icecore"
	"github.com/makana/icecore/ice"
	"github.com/makana/icecore/internal/media"
	"github.com/makana/icecore/internal/media/rtsp"
	"github.com/makana/icecore/internal/signaling"
	"github.com/makana/icecore/internal/v4l2"
)

var audioSource media.AudioSource
var videoSource media.VideoSource

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	if flagVersion {
		version()
		os.Exit(0)
	}

	// Configure logging
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)

	// Open video source
	{
		err := fmt.Errorf("unsupported input: %s", flagInput)

		if strings.HasPrefix(flagInput, "rtsp://") {
			videoSource, err = rtsp.Open(flagInput)
		} else if strings.HasSuffix(flagInput, ".mp4") {
			videoSource, err = media.OpenMP4(flagInput)
		} else {
			var fi os.FileInfo
			if fi, err = os.Stat(flagInput); err == nil {
				// Assume device type files are Video4Linux2 devices
				if os.ModeDevice == fi.Mode()&os.ModeDevice {
					videoSource, err = v4l2.Open(flagInput, v4l2.Config{
						Width:                flagWidth,
						Height:               flagHeight,
						Bitrate:              1000 * flagBitrate,
						RepeatSequenceHeader: true,
					})
				} else {
					err = errors.New("Unrecognized device type")
				}
			}
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}

		if nil == videoSource {
			panic("logic error")
		}
		log.Printf("Local video: %dx%d %s\n", videoSource.Width(), videoSource.Height(), videoSource.Codec())
	}

	if closer, ok := videoSource.(io.Closer); ok {
		defer closer.Close()
	}

	if err := signaling.Listen(doPeerSession); err != nil {
		log.Fatal(err)
	}
}

func doPeerSession(ss *signaling.Session) {
	ctx, cancel := context.WithCancel(ss.Context)
	defer cancel()

	pc := alohartc.NewPeerConnection(ctx)
	defer pc.Close()

	// Wait for SDP offer from remote peer, then send our answer.
	select {
	case offer := <-ss.Offer:
		answer, err := pc.SetRemoteDescription(offer)
		if err != nil {
			log.Fatal(err)
		}

		if err := ss.SendAnswer(answer); err != nil {
			log.Fatal(err)
		}
	case <-ctx.Done():
		return
	}

	// Pass remote candidates from the signaling server to the local ICE agent.
	go func() {
		for c := range ss.RemoteCandidates {
			if err := pc.AddIceCandidate(c.String(), c.Mid()); err != nil {
				log.Printf("ice candidate rejected: %v", err)
			}
		}
	}()

	// Forward candidates gathered by the local ICE agent to the signaling server.
	lcand := make(chan ice.Candidate)
	go func() {
		for c := range lcand {
			if err := ss.SendLocalCandidate(c); err != nil {
				log.Printf("send local candidate: %v", err)
			}
		}
	}()

	if err := pc.Connect(lcand); err != nil {
		log.Fatal(err)
	}

	r, w := io.Pipe()
	go func() {
		defer w.Close()
		recv := videoSource.Subscribe(4)
		defer videoSource.Unsubscribe(recv)
		for buf := range recv {
			if _, err := w.Write(buf); err != nil {
				return
			}
		}
	}()

	if err := pc.StreamH264(r, false); err != nil {
		log.Println(err)
	}
}
