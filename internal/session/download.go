package session

import (
	"errors"

	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/protocol"
)

func (srv *Server) closeDownload(s *Session) {
	s.download = nil
}

func (srv *Server) flushReliable(s *Session) {
	if err := s.out.Flush(network.MsgReliable | network.MsgClear); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send download record")
	}
}

func (srv *Server) downloadFailed(s *Session, name string, offset int, err error) {
	s.logger.Debug().Err(err).Str("file", name).Int("offset", offset).Msg("refusing download")
	srv.emit(events.EventDownloadDenied, events.DownloadPayload{
		SessionRef: s.ref(),
		File:       name,
		Offset:     offset,
		Reason:     err.Error(),
	})
	download.WriteFailed(s.out.Writer())
	srv.flushReliable(s)
}

// handleBeginDownload validates a download request and starts the
// transfer, resuming at the offset the client already has.
func (srv *Server) handleBeginDownload(s *Session, args *Args) {
	name := download.CleanName(args.Argv(1))
	offset := 0
	if args.Argc() > 2 {
		offset = download.ParseOffset(args.Argv(2))
	}

	category, err := srv.policy.Validate(name, offset)
	if err != nil {
		srv.downloadFailed(s, name, offset, err)
		return
	}

	if s.download != nil {
		s.logger.Debug().Str("file", s.download.Name).Msg("closing existing download")
		srv.closeDownload(s)
	}

	asset, err := srv.assets.Load(name)
	switch {
	case err != nil:
		if !errors.Is(err, download.ErrNotFound) {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to load download")
		}
		srv.downloadFailed(s, name, offset, download.ErrNotFound)
		return
	case asset.Size == 0:
		srv.downloadFailed(s, name, offset, download.ErrNotFound)
		return
	case category == download.CategoryMaps && asset.FromArchive && !srv.policy.AllowsArchivedMaps():
		srv.downloadFailed(s, name, offset, download.ErrMapInArchive)
		return
	}

	if offset > asset.Size {
		srv.print(s, protocol.PrintHigh, download.SizeMismatchMessage)
		srv.downloadFailed(s, name, offset, download.ErrSizeMismatch)
		return
	}

	if offset == asset.Size {
		s.logger.Debug().Str("file", name).Int("size", asset.Size).Msg("client already has file")
		download.WriteAlreadyComplete(s.out.Writer())
		srv.flushReliable(s)
		return
	}

	s.download = download.NewTransfer(name, category, asset, offset)
	s.logger.Debug().Str("file", name).Int("size", asset.Size).Int("offset", offset).Msg("starting download")
	srv.emit(events.EventDownloadStarted, events.DownloadPayload{
		SessionRef: s.ref(),
		File:       name,
		Category:   category.String(),
		Size:       asset.Size,
		Offset:     offset,
	})

	srv.handleNextDownload(s, args)
}

// handleNextDownload sends the next chunk of the active transfer.
func (srv *Server) handleNextDownload(s *Session, args *Args) {
	t := s.download
	if t == nil {
		return
	}

	if t.WriteNextChunk(s.out.Writer()) {
		srv.closeDownload(s)
		srv.emit(events.EventDownloadFinished, events.DownloadPayload{
			SessionRef: s.ref(),
			File:       t.Name,
			Category:   t.Category.String(),
			Size:       t.Size(),
		})
	}
	srv.flushReliable(s)
}

// handleStopDownload aborts the active transfer at the client's request.
func (srv *Server) handleStopDownload(s *Session, args *Args) {
	t := s.download
	if t == nil {
		return
	}

	download.WriteStop(s.out.Writer(), t.Percent())
	srv.flushReliable(s)

	s.logger.Debug().Str("file", t.Name).Msg("download stopped by user request")
	srv.closeDownload(s)
}
