// Package gsplat implements the differentiable operator pair used to fit
// Gaussians to an image: Project maps 3D Gaussians through a pinhole camera
// into screen-space footprints, Rasterize composites those footprints into
// an image. Each has an explicit backward entry point.
//
// Rasterization is tile based. The image is split into TileSize x TileSize
// tiles, every visible Gaussian is binned into the tiles its footprint
// overlaps, and each tile is sorted by depth (ties by index) and
// composited front to back:
//
//	alpha = opacity * exp(-0.5 * dᵀ·conic·d)
//	C    += color * alpha * T
//	T    *= 1 - alpha
//
// followed by C += background * T. A Gaussian only touches pixels whose
// centers lie inside its radius box, so the result does not depend on the
// tile size.
//
// All work runs inside a Context, which bounds parallelism and must be
// closed by its owner.
package gsplat
