package fulfillment

import (
	assetsdomain "github.com/smallbiznis/printforge/internal/assets/domain"
	providerdomain "github.com/smallbiznis/printforge/internal/provider/domain"
)

// printTransform places the artwork inside the print area. The default
// is centered at full scale, which fills the area for cover-style
// templates; a contain fit shrinks the artwork so nothing is cropped.
// Reports defaulted=true when the asset never recorded a fit intent
// and the default had to be assumed.
func printTransform(asset *assetsdomain.ResolvedAsset, area providerdomain.Placeholder) (providerdomain.Transform, bool) {
	transform := providerdomain.Transform{X: 0.5, Y: 0.5, Scale: 1, Angle: 0}

	switch asset.Fit {
	case "cover":
		return transform, false
	case "contain":
		if asset.Width <= 0 || asset.Height <= 0 || area.Width <= 0 || area.Height <= 0 {
			return transform, true
		}
		// Scale is relative to print-area width. Full width already
		// contains a wide artwork; a tall one must shrink until its
		// height fits.
		artAspect := float64(asset.Width) / float64(asset.Height)
		areaAspect := float64(area.Width) / float64(area.Height)
		if artAspect < areaAspect {
			transform.Scale = artAspect / areaAspect
		}
		return transform, false
	default:
		return transform, true
	}
}
