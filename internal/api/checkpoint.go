package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/checkpoints/archive"
	"github.com/brainfit/brainfit/pkg/checkpoints/local"
)

// getCheckpoint streams the checkpoint directory of one repeat as an archive. The format query
// parameter selects tgz (default), tar or zip; source=storage reads the uploaded copy instead of
// the local one.
func (s *Server) getCheckpoint(c echo.Context) error {
	args, err := bindRecord(c)
	if err != nil {
		return err
	}
	if args.repeat < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "a checkpoint belongs to a single repeat")
	}
	rec, err := s.manager.FindRecord(args.plan, args.repeat)
	if err != nil {
		return asHTTPError(err)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = string(archive.ArchiveTgz)
	}
	archiveType := archive.ParseArchiveType(format)
	if archiveType == archive.ArchiveUnknown {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported archive format %q", format))
	}

	resp := c.Response()
	var downloader checkpoints.CheckpointDownloader
	switch c.QueryParam("source") {
	case "storage":
		if s.storage == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "no checkpoint storage is configured")
		}
		downloader, err = checkpoints.NewDownloader(resp, rec.StorageKey(), s.storage, archiveType)
	case "", "local":
		var aw archive.ArchiveWriter
		aw, err = archive.NewDelayedArchiveWriter(resp, archiveType)
		if err == nil {
			d := local.NewLocalDownloader(aw, rec.TargetPath())
			if err := setContentLength(c, aw, d); err != nil {
				return err
			}
			downloader = d
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be local or storage")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	name := fmt.Sprintf("%s-%s.%s",
		filepath.Base(filepath.Dir(rec.TargetPath())), rec.Name(), archiveType.Extension())
	resp.Header().Set(echo.HeaderContentType, archiveType.ContentType())
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))

	if err := downloader.Download(c.Request().Context()); err != nil {
		_ = downloader.Close()
		return echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("unable to download checkpoint of %s: %s", rec.Name(), err))
	}
	if err := downloader.Close(); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

// setContentLength announces the archive size up front when the format allows predicting it.
func setContentLength(c echo.Context, aw archive.ArchiveWriter, d *local.LocalDownloader) error {
	if !aw.DryRunEnabled() {
		return nil
	}
	files, err := d.ListFiles(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("listing checkpoint files: %s", err))
	}
	n, err := archive.DryRunLength(aw, files)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(n, 10))
	return nil
}
