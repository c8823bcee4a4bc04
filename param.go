package splatfit

// Param is one trainable array. Data is row-major Len() x Dim. The
// optimizer keys its state on the *Param, so a Param must be registered
// once and never copied.
type Param struct {
	Name string
	Dim  int
	Data []float64
	Grad []float64
}

func NewParam(name string, n, dim int) *Param {
	return &Param{
		Name: name,
		Dim:  dim,
		Data: make([]float64, n*dim),
		Grad: make([]float64, n*dim),
	}
}

func (p *Param) Len() int {
	return len(p.Data) / p.Dim
}

func (p *Param) Row(i int) []float64 {
	return p.Data[i*p.Dim : (i+1)*p.Dim]
}

func (p *Param) ZeroGrad() {
	clear(p.Grad)
}
