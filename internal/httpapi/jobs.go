package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/pipeline"
	"github.com/andresmejia3/camrig/internal/roi"
	"github.com/andresmejia3/camrig/internal/segment"
)

type cutInput struct {
	VideoPath string          `json:"video_path"`
	BaseName  string          `json:"base_name"`
	Segments  []segment.Range `json:"segments"`
}

type clipOutput struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Path  string  `json:"path"`
	Error string  `json:"error,omitempty"`
}

type cutOutput struct {
	Status  string       `json:"status"`
	OutDir  string       `json:"out_dir"`
	Outputs []string     `json:"outputs"`
	Clips   []clipOutput `json:"clips"`
}

func (a *API) cutVideo(c *gin.Context) {
	var in cutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, faults.Invalid("%v", err))
		return
	}
	res, err := a.Cutter.CutAll(c.Request.Context(), segment.CutRequest{
		Source:   in.VideoPath,
		BaseName: in.BaseName,
		Segments: in.Segments,
	})
	if res == nil {
		fail(c, err)
		return
	}
	a.Catalog.Cut(c.Request.Context(), in.VideoPath, res)

	out := cutOutput{Status: jobStatus(err), OutDir: res.OutDir, Outputs: []string{}}
	for _, clip := range res.Clips {
		if clip.Err == nil {
			out.Outputs = append(out.Outputs, clip.Path)
		}
		out.Clips = append(out.Clips, clipOutput{
			Index: clip.Index,
			Start: clip.Start,
			End:   clip.End,
			Path:  clip.Path,
			Error: errString(clip.Err),
		})
	}
	c.JSON(http.StatusOK, out)
}

type exportInput struct {
	VideoPath string       `json:"video_path"`
	Regions   []roi.Region `json:"rois"`
	Margin    int          `json:"margin"`
	BaseName  string       `json:"base_name"`
}

type regionOutput struct {
	Label  string `json:"label"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Frames int    `json:"frames"`
	Error  string `json:"error,omitempty"`
}

type exportOutput struct {
	Status  string         `json:"status"`
	OutDir  string         `json:"out_dir"`
	Frames  int            `json:"frames"`
	Outputs []regionOutput `json:"outputs"`
}

func (a *API) exportRegions(c *gin.Context) {
	var in exportInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, faults.Invalid("%v", err))
		return
	}
	res, err := a.Exporter.Export(c.Request.Context(), pipeline.ExportRequest{
		Source:   in.VideoPath,
		Regions:  in.Regions,
		Margin:   in.Margin,
		BaseName: in.BaseName,
	})
	if res == nil {
		fail(c, err)
		return
	}
	a.Catalog.Export(c.Request.Context(), res)

	out := exportOutput{Status: jobStatus(err), OutDir: res.OutDir, Frames: res.Frames}
	for _, o := range res.Outputs {
		out.Outputs = append(out.Outputs, regionOutput{
			Label:  o.Label,
			Path:   o.Path,
			Width:  o.Width,
			Height: o.Height,
			Frames: o.Frames,
			Error:  errString(o.Err),
		})
	}
	c.JSON(http.StatusOK, out)
}

// detectParams leaves unset fields nil so the configured defaults apply.
type detectParams struct {
	VLow    *int     `json:"v_low"`
	VHigh   *int     `json:"v_high"`
	MinFrac *float64 `json:"min_frac"`
}

type detectInput struct {
	Videos    []string     `json:"videos"`
	VideoPath string       `json:"video_path"`
	Params    detectParams `json:"params"`
}

type sourceOutput struct {
	Source    string `json:"source"`
	Label     string `json:"roi_name"`
	Annotated string `json:"annotated"`
	EventLog  string `json:"detections"`
	Frames    int    `json:"frames"`
	Events    int    `json:"events"`
	Error     string `json:"error,omitempty"`
}

type detectOutput struct {
	Status  string         `json:"status"`
	JobID   string         `json:"job_id"`
	OutDir  string         `json:"out_dir"`
	Sources []sourceOutput `json:"sources"`
}

func (a *API) detectColor(c *gin.Context) {
	var in detectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, faults.Invalid("%v", err))
		return
	}
	sources := in.Videos
	if len(sources) == 0 && in.VideoPath != "" {
		sources = []string{in.VideoPath}
	}

	th := a.Threshold
	if th == (pipeline.Threshold{}) {
		th = pipeline.DefaultThreshold
	}
	if in.Params.VLow != nil {
		th.VLow = *in.Params.VLow
	}
	if in.Params.VHigh != nil {
		th.VHigh = *in.Params.VHigh
	}
	if in.Params.MinFrac != nil {
		th.MinFrac = *in.Params.MinFrac
	}

	res, err := a.Detector.Detect(c.Request.Context(), pipeline.DetectRequest{
		Sources:   sources,
		Threshold: th,
	})
	if res == nil {
		fail(c, err)
		return
	}
	a.Catalog.Detect(c.Request.Context(), res)

	out := detectOutput{Status: jobStatus(err), JobID: res.JobID, OutDir: res.OutDir}
	for _, s := range res.Sources {
		out.Sources = append(out.Sources, sourceOutput{
			Source:    s.Source,
			Label:     s.Label,
			Annotated: s.Annotated,
			EventLog:  s.EventLog,
			Frames:    s.Frames,
			Events:    len(s.Events),
			Error:     errString(s.Err),
		})
	}
	c.JSON(http.StatusOK, out)
}
