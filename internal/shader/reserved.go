package shader

import "strings"

// Parameters become #defines over the whole body, so a parameter named like
// a GLSL keyword, type or built-in function would rewrite every use of it.
var reservedNames = func() map[string]bool {
	words := `
attribute const uniform varying layout centroid flat smooth noperspective
break continue do for while switch case default if else in out inout
true false invariant discard return struct precision highp mediump lowp
void bool int uint float double vec2 vec3 vec4 ivec2 ivec3 ivec4 uvec2
uvec3 uvec4 bvec2 bvec3 bvec4 dvec2 dvec3 dvec4 mat2 mat3 mat4 mat2x2
mat2x3 mat2x4 mat3x2 mat3x3 mat3x4 mat4x2 mat4x3 mat4x4 sampler1D
sampler2D sampler3D samplerCube sampler2DShadow sampler2DRect
sampler2DArray isampler2D usampler2D samplerBuffer
radians degrees sin cos tan asin acos atan sinh cosh tanh asinh acosh
atanh pow exp log exp2 log2 sqrt inversesqrt abs sign floor trunc round
roundEven ceil fract mod modf min max clamp mix step smoothstep isnan
isinf floatBitsToInt floatBitsToUint intBitsToFloat uintBitsToFloat
length distance dot cross normalize faceforward reflect refract
matrixCompMult outerProduct transpose determinant inverse lessThan
lessThanEqual greaterThan greaterThanEqual equal notEqual any all not
texture textureSize textureLod textureOffset texelFetch textureProj
textureGrad dFdx dFdy fwidth main mainImage
fragTexCoord fragColor finalColor
`
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	for _, w := range []string{UniformTime, UniformResolution, UniformParams} {
		m[w] = true
	}
	return m
}()

// reservedName reports whether name cannot be used for a parameter.
func reservedName(name string) bool {
	return reservedNames[name] || strings.HasPrefix(name, "gl_") || strings.Contains(name, "__")
}
